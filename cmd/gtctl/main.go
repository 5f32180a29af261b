package main

import "github.com/globetrotter/auth-service/cmd/gtctl/cmd"

func main() {
	cmd.Execute()
}
