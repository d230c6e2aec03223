package main

import "linkdigest/cmd"

func main() {
	cmd.Run()
}
