package main

import "github.com/portside-dev/portside/internal/cmd"

func main() {
	cmd.Execute()
}
