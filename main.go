package main

import "github.com/NELLExchange/Reifnir/cmd"

func main() {
	cmd.Execute()
}
