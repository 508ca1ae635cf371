package main

import "github.com/Polonium-salts/OpenStore/cmd"

func main() {
	cmd.Execute()
}
