package main

import "github.com/corigine/flower-offload/flow/cmd"

func main() {
	cmd.Execute()
}
