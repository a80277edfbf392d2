package main

import "github.com/lomesh/lomesh/cmd"

func main() {
	cmd.Execute()
}
