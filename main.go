package main

import "github.com/codechallenge/login-processing-service/cmd"

func main() {
	cmd.Execute()
}
