package env

import (
	"os"
	"path/filepath"
)

// WorkDir returns the default root for downloads, source trees and
// install prefixes.
func WorkDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userCacheDir, "depbuild"), nil
}

// DownloadDir returns the shared archive cache below root.
func DownloadDir(root string) string {
	return filepath.Join(root, "downloads")
}

// TargetDir returns the isolated working area of one platform target.
//
//	root/<target>/
//	  src/<name>/      unpacked and patched sources
//	  build/<name>/    out-of-tree build directories
//	  locks/<name>.lock
//	  prefix/          install prefix (include/, lib/, .depbuild/)
func TargetDir(root, target string) string {
	return filepath.Join(root, target)
}

// PrefixDir returns the default install prefix of a target directory.
func PrefixDir(targetDir string) string {
	return filepath.Join(targetDir, "prefix")
}
