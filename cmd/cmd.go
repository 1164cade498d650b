// Copyright 2016-2019 DutchSec (https://dutchsec.com/)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"

	"github.com/fatih/color"
	cli "gopkg.in/urfave/cli.v1"
)

// Version and CommitID are set at build time with -ldflags "-X".
var (
	Version  = "0.1"
	CommitID = ""

	ShortCommitID = shortCommitID()
)

func shortCommitID() string {
	if len(CommitID) > 7 {
		return CommitID[:7]
	}

	if CommitID == "" {
		return "unknown"
	}

	return CommitID
}

var HelpTemplate = `NAME:
{{.Name}} - {{.Usage}}

DESCRIPTION:
{{.Description}}

USAGE:
{{.Name}} {{if .Flags}}[flags] {{end}}command{{if .Flags}}{{end}} [arguments...]

COMMANDS:
{{range .Commands}}{{join .Names ", "}}{{ "\t" }}{{.Usage}}
{{end}}{{if .Flags}}
FLAGS:
{{range .Flags}}{{.}}
{{end}}{{end}}
VERSION:
` + Version +
	`{{ "\n"}}`

// VersionAction prints the version details.
func VersionAction(c *cli.Context) error {
	fmt.Println(color.YellowString("Bannertrap: low interaction banner honeypot."))
	fmt.Println(color.YellowString("Version: %s (%s)", Version, ShortCommitID))
	return nil
}
