// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "sftools-proxy",
		Short: "Native messaging proxy for the sftools browser extension",
		Long: `sftools-proxy is launched by the browser as a native messaging host.
It reads length-prefixed JSON requests on stdin, answers on stdout and keeps
Salesforce streaming subscriptions open on behalf of the extension.

Browsers pass the calling extension's origin as the first argument; it is
added to the transfer server's CORS origins.`,
		Version: version,
		// Browsers append their own arguments (origin, manifest path and on
		// Windows a --parent-window flag).
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), serveOptions{
				ConfigPath: configPath,
				Origins:    extensionOrigins(args),
				In:         os.Stdin,
				Out:        os.Stdout,
			})
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $SFTOOLS_PROXY_CONFIG)")

	root.AddCommand(newManifestCommand())
	return root
}

// extensionOrigins picks the browser extension origins out of the launch
// arguments.
func extensionOrigins(args []string) []string {
	var origins []string
	for _, a := range args {
		if strings.HasPrefix(a, "chrome-extension://") || strings.HasPrefix(a, "moz-extension://") {
			origins = append(origins, strings.TrimRight(a, "/"))
		}
	}
	return origins
}
