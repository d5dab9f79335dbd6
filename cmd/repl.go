package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// runREPL reads line commands from stdin until "exit" or EOF, dispatching
// each against the running app the way the governing design's §6 operator
// CLI specifies: start, stop, exit, show fsm, show device, show rib, show
// rib detail. Unknown input is silently ignored.
func runREPL(a *app) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "start":
			for _, c := range a.coordinators {
				c.Activate()
			}
		case "stop":
			for _, c := range a.coordinators {
				c.Stop()
			}
		case "exit":
			return
		case "show":
			a.dispatchShow(fields[1:])
		default:
			// Unknown input is silently ignored per the CLI's spec.
		}
	}
}

func (a *app) dispatchShow(args []string) {
	if len(args) == 0 {
		return
	}
	switch args[0] {
	case "fsm":
		a.showFSM()
	case "device":
		a.showDevice()
	case "rib":
		detail := len(args) > 1 && args[1] == "detail"
		a.showRIB(detail)
	}
}

func (a *app) showFSM() {
	for remote, c := range a.coordinators {
		fmt.Printf("%-16s %s\n", remote, c.State())
	}
}

func (a *app) showDevice() {
	fmt.Printf("local_id=%s local_port=%d peers=%d\n", a.localID.String(), a.localPort, len(a.coordinators))
}

func (a *app) showRIB(detail bool) {
	routes := a.locRIB.Dump()
	fmt.Printf("loc-rib: %d routes\n", len(routes))
	if !detail {
		return
	}
	for _, r := range routes {
		fmt.Println(" ", r.String())
	}
}
