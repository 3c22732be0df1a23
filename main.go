package main

import "github.com/mihaisavezi/copilot-gateway/cmd"

func main() {
	cmd.Execute()
}
