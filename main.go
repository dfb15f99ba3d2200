package main

import "github.com/opsrun/opsrun/cmd"

func main() {
	cmd.Execute()
}
