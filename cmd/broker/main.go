package main

import "github.com/zeusync/pocketbus/cmd/broker/cmd"

func main() {
	cmd.Execute()
}
