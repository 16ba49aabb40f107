package main

import "github.com/oshokin/release-packager/cmd/release-verifier/cmd"

func main() {
	cmd.Execute()
}
