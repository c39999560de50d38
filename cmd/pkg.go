/*
dx-docker pulls container images from OCI registries into a local file system cache
and runs commands in them without a container daemon. Cached images can also be
packaged into an applet's resources or uploaded to a platform project as an asset.

Usage:

	dx-docker [global flags] <command> [flags] [args]

Commands:

	pull [-q] [--os OS] [--arch ARCH] <ref>...
		Pulls one or more images into the cache.
	run [-v host:ctr]... [-w dir] [--rm] [-q] [-e K=V]... [--engine proot|podman] <ref> [cmd...]
		Runs a command in an image, pulling it first if needed. The exit code of
		the command is the exit code of dx-docker.
	add-to-applet [-q] <ref> <appletDir>
		Copies an image into the resources of an applet directory.
	create-asset [-q] [-o folder] [--project P] [--name N] <ref>
		Uploads an image into a project folder and prints the id of the record.
	list [--header] [--pattern P]
		Lists the cache.
	clear [--pattern P] [--date D] [--dry-run]
		Removes images from the cache.
	version
		Displays the version.

Global flags:

	--log-level string
		Log level. Defaults to 'error'.
	--log-file string
		Log to the specified file rather than stderr.
	--config-file string
		Configuration file with registry, platform, and default settings.
	--cache-dir string
		The cache directory. Defaults to '/tmp/dx-docker-cache'.
	--metrics-file string
		Writes metrics in Prometheus text format to the file on exit.
*/
package main
