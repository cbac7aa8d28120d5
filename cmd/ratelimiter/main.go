// Command ratelimiter runs the token-bucket rate limiting service.
package main

import "ratelimiter/cmd/ratelimiter/cmd"

func main() {
	cmd.Execute()
}
