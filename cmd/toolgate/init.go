package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/revittco/toolgate/internal/secrets"
)

const starterRegistry = `# toolgate registry
# Declares the downstream servers and the tools the gateway governs.
# schema_min must stay small (<= 50 whitespace tokens); schema_full may be
# arbitrarily detailed.

servers:
  - id: files
    description: Local filesystem tool server
    risk_level: sensitive
    tags: [files, local]

tools:
  - tool_id: read_file
    server_id: files
    description_1line: Read a file from the workspace
    tags: [files, read]
    risk_level: safe
    schema_min:
      type: object
      properties:
        path: { type: string }
      required: [path]
    schema_full:
      type: object
      properties:
        path:
          type: string
          description: Absolute or workspace-relative path to read
        offset:
          type: integer
          description: Byte offset to start reading from
        limit:
          type: integer
          description: Maximum number of bytes to return
      required: [path]

  - tool_id: write_file
    server_id: files
    description_1line: Write content to a file in the workspace
    tags: [files, write]
    risk_level: sensitive
    required_scopes: [fs:write]
    schema_min:
      type: object
      properties:
        path: { type: string }
        content: { type: string }
      required: [path, content]
    schema_full:
      type: object
      properties:
        path:
          type: string
          description: Absolute or workspace-relative path to write
        content:
          type: string
          description: Full file content; the file is replaced
        create_dirs:
          type: boolean
          description: Create missing parent directories
      required: [path, content]

  - tool_id: delete_file
    server_id: files
    description_1line: Delete a file from the workspace
    tags: [files, delete]
    risk_level: dangerous
    required_scopes: [fs:write, fs:delete]
    schema_min:
      type: object
      properties:
        path: { type: string }
      required: [path]
    schema_full:
      type: object
      properties:
        path:
          type: string
          description: Path to delete; directories are refused
      required: [path]
`

func cmdInit() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.RegistryPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(cfg.RegistryPath), 0o700); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		if err := os.WriteFile(cfg.RegistryPath, []byte(starterRegistry), 0o644); err != nil {
			return fmt.Errorf("write registry: %w", err)
		}
		fmt.Printf("Registry created: %s\n", cfg.RegistryPath)
	} else {
		fmt.Printf("Registry already exists: %s\n", cfg.RegistryPath)
	}

	enc, err := secrets.EnsureKeyFile(cfg.AgeKeyPath)
	if err != nil {
		return fmt.Errorf("age key: %w", err)
	}
	fmt.Printf("Age key ready: %s\n", cfg.AgeKeyPath)

	if _, err := os.Stat(cfg.SecretPath); os.IsNotExist(err) {
		if _, err := secrets.CreateSigningSecret(cfg.SecretPath, enc); err != nil {
			return fmt.Errorf("signing secret: %w", err)
		}
		fmt.Printf("Signing secret created: %s\n", cfg.SecretPath)
	} else {
		fmt.Printf("Signing secret already exists: %s\n", cfg.SecretPath)
	}

	return nil
}
