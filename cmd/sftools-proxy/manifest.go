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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultHostName = "com.sftools.proxy"

// hostManifest is the file browsers read to locate a native messaging host.
type hostManifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins"`
}

func buildManifest(name, path string, extensionIDs []string) (hostManifest, error) {
	if len(extensionIDs) == 0 {
		return hostManifest{}, errors.New("at least one --extension-id is required")
	}
	origins := make([]string, 0, len(extensionIDs))
	for _, id := range extensionIDs {
		if id == "" {
			return hostManifest{}, errors.New("extension id must not be empty")
		}
		origins = append(origins, fmt.Sprintf("chrome-extension://%s/", id))
	}
	return hostManifest{
		Name:           name,
		Description:    "sftools local streaming proxy",
		Path:           path,
		Type:           "stdio",
		AllowedOrigins: origins,
	}, nil
}

func newManifestCommand() *cobra.Command {
	var (
		name         string
		path         string
		extensionIDs []string
	)

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Print the native messaging host manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				exe, err := os.Executable()
				if err != nil {
					return fmt.Errorf("resolve executable: %w", err)
				}
				path = exe
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}

			m, err := buildManifest(name, abs, extensionIDs)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		},
	}
	cmd.Flags().StringSliceVar(&extensionIDs, "extension-id", nil, "extension id allowed to launch the host (repeatable)")
	cmd.Flags().StringVar(&name, "name", defaultHostName, "native messaging host name")
	cmd.Flags().StringVar(&path, "path", "", "host executable path (default: this binary)")
	return cmd
}
