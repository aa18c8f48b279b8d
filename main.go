package main

import "github.com/jcdickinson/rsindex/cmd"

func main() {
	cmd.Execute()
}
