// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

const (
	NoConnectionId Id = iota + 1
	NothingInstalledId
	LockTimeoutId
	InstallFailedId
	LaunchFailedId
	ConfigLoadFailedId
	SelfUpdateFailedId
)

type (
	Id int

	MarkdownMsg string

	HttpLink string

	Issue struct {
		id       Id
		kind     Kind
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) Kind() Kind {
	return i.kind
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

// Render renders the issue as terminal Markdown using the glamour style at
// stylePath ("" selects the auto style).
func (i *Issue) Render(stylePath string) (string, error) {
	md := string(i.mdMsg)
	if len(i.docLinks) > 0 {
		md += "\n\n## See also\n"
		for _, link := range i.docLinks {
			md += "- " + string(link) + "\n"
		}
	}
	if stylePath == "" {
		stylePath = "auto"
	}
	return render(md, stylePath)
}

var (
	render = glamour.Render

	noConnectionIssue = &Issue{
		id:   NoConnectionId,
		kind: KindConnectivity,
		mdMsg: `
# Could not reach the update service

The client could not be checked for updates. voxstrap will launch the copy
that is already installed.

## Things you can try
- Check your internet connection or proxy settings
- Verify ` + "`client.feed_url`" + ` in your configuration:
~~~
$ voxstrap config show
~~~`,
	}

	nothingInstalledIssue = &Issue{
		id:   NothingInstalledId,
		kind: KindConnectivity,
		mdMsg: `
# Nothing to launch

The update service is unreachable and no client is installed yet, so there
is nothing voxstrap can start.

## Things you can try
- Connect to the internet and run voxstrap again
- Check that ` + "`root_dir`" + ` points at your existing installation`,
	}

	lockTimeoutIssue = &Issue{
		id:   LockTimeoutId,
		kind: KindLockTimeout,
		mdMsg: `
# Another voxstrap is already running

A different voxstrap process is installing or launching the client. Only
one may do so at a time.

## Things you can try
- Wait for the other window to finish and retry
- Raise ` + "`launch.lock_timeout`" + ` if installs on this machine are slow`,
	}

	installFailedIssue = &Issue{
		id:   InstallFailedId,
		kind: KindNetwork,
		mdMsg: `
# The client could not be installed

Downloading or extracting the latest client failed and there is no previous
installation to fall back to.

## Things you can try
- Retry; partial downloads are discarded automatically
- Make sure the disk holding ` + "`root_dir`" + ` has free space
- Run with ` + "`--verbose`" + ` to see the underlying error`,
	}

	launchFailedIssue = &Issue{
		id:   LaunchFailedId,
		kind: KindLaunch,
		mdMsg: `
# The client failed to start

voxstrap reinstalled the client and tried again, but it still would not
start.

## Things you can try
- Check that your antivirus is not quarantining the client executable
- Remove entries from ` + "`launch.run_as_admin`" + ` and retry
- Run with ` + "`--verbose`" + ` and inspect the log`,
	}

	configLoadFailedIssue = &Issue{
		id:   ConfigLoadFailedId,
		kind: KindUnknown,
		mdMsg: `
# Failed to load configuration

Your configuration file could not be parsed. Defaults are used instead.

## Things you can try
- Print the effective configuration:
~~~
$ voxstrap config show
~~~
- Recreate the file with defaults:
~~~
$ voxstrap config init --force
~~~`,
	}

	selfUpdateFailedIssue = &Issue{
		id:   SelfUpdateFailedId,
		kind: KindSelfUpdate,
		mdMsg: `
# voxstrap could not update itself

The new launcher binary could not replace the installed one. The current
version keeps working.

## Things you can try
- Close other voxstrap windows and retry
- Reinstall voxstrap manually from the releases page`,
	}

	issues = map[Id]*Issue{
		noConnectionIssue.id:     noConnectionIssue,
		nothingInstalledIssue.id: nothingInstalledIssue,
		lockTimeoutIssue.id:      lockTimeoutIssue,
		installFailedIssue.id:    installFailedIssue,
		launchFailedIssue.id:     launchFailedIssue,
		configLoadFailedIssue.id: configLoadFailedIssue,
		selfUpdateFailedIssue.id: selfUpdateFailedIssue,
	}
)

// Values returns every catalog issue ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, is := range issues {
		out = append(out, is)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
