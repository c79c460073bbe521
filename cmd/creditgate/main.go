// Package main is the entry point for creditgate, the credit-metering
// gateway in front of the SSI backend.
package main

func main() {
	Execute()
}
