// Package main implements the flowtriage CLI.
package main

func main() {
	Execute()
}
