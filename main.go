package main

import "github.com/0glabs/0g-dirview/cmd"

func main() {
	cmd.Execute()
}
