package main

import "cinefetch/cmd"

func main() {
	cmd.Execute()
}
