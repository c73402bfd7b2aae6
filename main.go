package main

import "github.com/terminuslabs/terminus/cmd"

func main() {
	cmd.Execute()
}
