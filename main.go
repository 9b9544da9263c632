package main

import "sparkify/cmd"

func main() {
	cmd.Execute()
}
