package main

import "github.com/zeusync/pocketbus/cmd/busctl/cmd"

func main() {
	cmd.Execute()
}
