package main

import "github.com/mFahadNoor/whop-ai-support-sub000/cmd"

func main() {
	cmd.Execute()
}
