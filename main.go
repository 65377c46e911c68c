package main

import "checkout-svc/cmd"

func main() {
	cmd.Execute()
}
