package main

import "github.com/musicpd/depbuild/cmd/depbuild/internal"

func main() {
	internal.Execute()
}
