package main

import "reviewq/cmd"

func main() {
	cmd.Run()
}
