package commands

import (
	"github.com/fabricdb/fabctl/internal/ctl"
	"github.com/fabricdb/fabctl/internal/db"
)

// runShow prints a brief tree of the configuration: each switch with its
// ports and ACLs. With an argument, only that switch.
func runShow(ctx *ctl.Context) error {
	var switches []*db.Row
	if len(ctx.Cmd.Args) == 1 {
		sw, err := ctx.LookupRow("Switch", ctx.Cmd.Args[0])
		if err != nil {
			return err
		}
		switches = append(switches, sw)
	} else {
		switches = ctx.Rows("Switch")
	}

	for _, sw := range switches {
		showSwitch(ctx, sw)
	}
	return nil
}

func showSwitch(ctx *ctl.Context, sw *db.Row) {
	name, _ := sw.Fields["name"].(string)
	ctx.Outf("switch %s (%s)\n", sw.UUID, name)

	ports, _ := sw.Fields["ports"].([]string)
	for _, id := range ports {
		port := ctx.Get("Port", id)
		if port == nil {
			continue
		}
		pname, _ := port.Fields["name"].(string)
		ctx.Outf("    port %s\n", pname)
		if addrs, _ := port.Fields["addresses"].([]string); len(addrs) > 0 {
			ctx.Outf("        addresses: %s\n", formatValue(addrs))
		}
		if tag, _ := port.Fields["tag"].(int64); tag != 0 {
			ctx.Outf("        tag: %d\n", tag)
		}
	}

	acls, _ := sw.Fields["acls"].([]string)
	for _, id := range acls {
		acl := ctx.Get("ACL", id)
		if acl == nil {
			continue
		}
		ctx.Outf("    acl %s %d %q %s\n",
			acl.Fields["direction"], acl.Fields["priority"],
			acl.Fields["match"], acl.Fields["action"])
	}
}
