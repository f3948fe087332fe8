package main

import "github.com/shiroyk/courier/cmd"

func main() {
	cmd.Execute()
}
