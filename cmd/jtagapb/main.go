package main

import "github.com/OpenTraceLab/jtagapb/cmd/jtagapb/cmd"

func main() {
	cmd.Execute()
}
