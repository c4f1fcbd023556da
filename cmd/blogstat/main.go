package main

import (
	"blogstat-backend/cmd/blogstat/commands"
	"blogstat-backend/internal/components/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
