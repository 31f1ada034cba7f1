package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/xaionaro-go/qualityscore/pkg/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version and the scoring profile",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		version := "(devel)"
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
			version = info.Main.Version
		}
		fmt.Println(TitleStyle.Render("qualityscore"))
		fmt.Printf("%s %s\n", KeyStyle.Render("Version:"), ValueStyle.Render(version))
		fmt.Printf("%s %s\n", KeyStyle.Render("Profile:"), ValueStyle.Render(config.ProfileVersion))
		fmt.Printf("%s %s\n", KeyStyle.Render("Go:     "), ValueStyle.Render(runtime.Version()))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
