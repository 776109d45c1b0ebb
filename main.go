package main

import "github.com/roadmate/roadmate/cmd"

func main() {
	cmd.Execute()
}
