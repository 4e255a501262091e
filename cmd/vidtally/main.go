package main

import "github.com/MeKo-Tech/vidtally/cmd/vidtally/cmd"

func main() {
	cmd.Execute()
}
