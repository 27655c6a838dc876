// Package archive implements everything the launcher does with zip archives.
//
// Key responsibilities:
//   - Discover runtime archives next to the bundle by file name
//     (runtime-core-<version>.zip, runtime-stdlib-<version>.zip)
//   - Open archives with github.com/klauspost/compress/zip, including
//     zstd-compressed entries and zip data appended to an executable
//   - Parse the JSONC runtime manifest (runtime.json, via
//     github.com/tidwall/jsonc) and the YAML launcher manifest
//     (META-INF/launcher.yaml, via gopkg.in/yaml.v3)
//   - Provide the Loader, the isolated loading context from which the
//     engine resolves every module it requires
package archive
