package packaging

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/kiln-build/kiln/pkg/logger"
	"github.com/kiln-build/kiln/pkg/process"
)

// Binary is one file the packager bundles next to the executable
type Binary struct {
	Source string
	Dest   string
}

// sdlFinderScript runs inside the target interpreter and prints the
// SDL2 shared-library directory and filenames on marker lines.
const sdlFinderScript = `
import os, glob, site

def find_sdl2_dlls():
    try:
        from sdl2dll import get_dllpath
        dll_path = get_dllpath()
        if os.path.exists(dll_path):
            dlls = glob.glob(os.path.join(dll_path, "*.dll"))
            if dlls:
                print("FOUND_DLLS:" + dll_path)
                for dll in dlls:
                    print("DLL:" + os.path.basename(dll))
                return
    except ImportError:
        pass

    for site_dir in site.getsitepackages():
        for dll_subdir in ["sdl2dll/dll", "sdl2", "SDL2", "pysdl2"]:
            check_dir = os.path.join(site_dir, dll_subdir)
            if os.path.exists(check_dir):
                dlls = glob.glob(os.path.join(check_dir, "*.dll"))
                if dlls:
                    print("FOUND_DLLS:" + check_dir)
                    for dll in dlls:
                        print("DLL:" + os.path.basename(dll))
                    return

    print("NO_DLLS_FOUND")

find_sdl2_dlls()
`

// FindSharedLibraries resolves the SDL2 dynamic libraries that must
// ship next to the executable. Only Windows loads them from beside the
// binary; elsewhere the result is always empty.
func FindSharedLibraries(ctx context.Context, runner process.Runner, pythonExe string, log logger.Logger) []Binary {
	if runtime.GOOS != "windows" {
		return nil
	}

	out, err := runner.Capture(ctx, pythonExe, "-c", sdlFinderScript)
	if err != nil {
		if log != nil {
			log.Warn("Shared-library probe failed", logger.WithField("error", err))
		}
		return nil
	}

	binaries := ParseSharedLibraryOutput(out)
	if log != nil {
		log.Info("Resolved SDL2 shared libraries", logger.WithField("count", len(binaries)))
	}
	return binaries
}

// ParseSharedLibraryOutput parses FOUND_DLLS:/DLL: marker lines into
// bundle entries destined for the executable's directory.
func ParseSharedLibraryOutput(output string) []Binary {
	var dllDir string
	var names []string

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "FOUND_DLLS:"); ok {
			dllDir = strings.TrimSpace(rest)
		} else if rest, ok := strings.CutPrefix(line, "DLL:"); ok {
			names = append(names, strings.TrimSpace(rest))
		}
	}

	if dllDir == "" || len(names) == 0 {
		return nil
	}

	binaries := make([]Binary, 0, len(names))
	for _, name := range names {
		binaries = append(binaries, Binary{
			Source: filepath.Join(dllDir, name),
			Dest:   ".",
		})
	}
	return binaries
}
