package main

import "github.com/brogergvhs/wxstrip/cmd"

func main() {
	cmd.Execute()
}
