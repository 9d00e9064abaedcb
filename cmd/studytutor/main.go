package main

import "github.com/room4-2/studytutor/cli"

func main() {
	cli.Execute()
}
