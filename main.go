package main

import "github.com/Korivash/Evocore-sub000/cmd"

func main() {
	cmd.Execute()
}
