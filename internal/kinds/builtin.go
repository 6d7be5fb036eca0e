package kinds

// builtins is the kind vocabulary available without any plugin
// registration. The set covers generic grouping targets plus the shell,
// packaging, and container kinds the standard pipelines consume.
var builtins = []Kind{
	{
		Alias:      "target",
		Doc:        "A generic grouping target with no behavior of its own.",
		FieldHints: []string{"dependencies", "description", "tags"},
	},
	{
		Alias:      "files",
		Doc:        "Loose files consumed at runtime, one generated target per source.",
		Generator:  true,
		FieldHints: []string{"sources", "dependencies", "tags"},
	},
	{
		Alias:      "resources",
		Doc:        "Files embedded into built artifacts, one generated target per source.",
		Generator:  true,
		FieldHints: []string{"sources", "dependencies", "tags"},
	},
	{
		Alias:      "archive",
		Doc:        "A zip or tar archive assembled from packages and loose files.",
		FieldHints: []string{"files", "packages", "format", "output_path"},
	},
	{
		Alias:      "shell_sources",
		Doc:        "Bourne-compatible shell scripts, one generated target per source.",
		Generator:  true,
		FieldHints: []string{"sources", "dependencies", "skip_shellcheck", "tags"},
	},
	{
		Alias:      "shell_command",
		Doc:        "A shell command whose captured outputs other targets may depend on.",
		FieldHints: []string{"command", "tools", "execution_dependencies", "output_files", "output_directories", "timeout"},
	},
	{
		Alias:      "run_shell_command",
		Doc:        "A shell command runnable in the workspace, never cached.",
		FieldHints: []string{"command", "execution_dependencies", "workdir"},
	},
	{
		Alias:      "test_shell_command",
		Doc:        "A shell command executed as a test.",
		FieldHints: []string{"command", "tools", "execution_dependencies", "timeout", "tags"},
	},
	{
		Alias:      "docker_image",
		Doc:        "A container image built from a Dockerfile in this directory.",
		FieldHints: []string{"source", "dependencies", "image_tags", "registries", "repository"},
	},
}
