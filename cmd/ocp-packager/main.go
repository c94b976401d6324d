package main

import "github.com/oshokin/ocp-packager/cmd/ocp-packager/cmd"

func main() {
	cmd.Execute()
}
