package packaging

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kiln-build/kiln/pkg/utils"
)

// Injection markers inside the spec template. Lists are spliced in by
// literal replacement of these exact lines; no templating engine.
const (
	binariesMarker      = "    binaries=[],"
	hooksMarker         = "    runtime_hooks=[],"
	hiddenImportsMarker = "    hiddenimports=[],"
)

// defaultSpecTemplate is the packaging spec used when the project does
// not ship its own template file.
const defaultSpecTemplate = `# -*- mode: python ; coding: utf-8 -*-

block_cipher = None
onefile = {{ONEFILE}}

a = Analysis(
    [r'{{MAIN_SCRIPT}}'],
    pathex=[],
    binaries=[],
    datas=[{{RESOURCES}}],
    hiddenimports=[],
    hookspath=[],
    runtime_hooks=[],
    excludes=[],
    cipher=block_cipher,
    noarchive=False,
)

pyz = PYZ(a.pure, a.zipped_data, cipher=block_cipher)

if onefile:
    exe = EXE(
        pyz,
        a.scripts,
        a.binaries,
        a.zipfiles,
        a.datas,
        [],
        name='{{NAME}}',
        debug=False,
        strip=False,
        upx=True,
        console={{CONSOLE}},
    )
else:
    exe = EXE(
        pyz,
        a.scripts,
        [],
        exclude_binaries=True,
        name='{{NAME}}',
        debug=False,
        strip=False,
        upx=True,
        console={{CONSOLE}},
    )
    coll = COLLECT(
        exe,
        a.binaries,
        a.zipfiles,
        a.datas,
        strip=False,
        upx=True,
        name='{{NAME}}',
    )
`

// RenderParams carries everything marker replacement needs
type RenderParams struct {
	MainScript    string
	Name          string
	Console       bool
	OneFile       bool
	ResourcesDir  string
	Binaries      []Binary
	Hooks         []string
	HiddenImports []string
}

// RenderSpec fills the template by literal marker replacement:
// {{MAIN_SCRIPT}}, {{NAME}}, {{CONSOLE}}, {{ONEFILE}}, {{RESOURCES}},
// plus list injection at the binaries/runtime_hooks/hiddenimports lines.
func RenderSpec(template string, p RenderParams) string {
	out := template

	out = strings.ReplaceAll(out, "{{MAIN_SCRIPT}}", filepath.ToSlash(p.MainScript))
	out = strings.ReplaceAll(out, "{{NAME}}", p.Name)
	out = strings.ReplaceAll(out, "{{CONSOLE}}", pyBool(p.Console))
	out = strings.ReplaceAll(out, "{{ONEFILE}}", pyBool(p.OneFile))

	if p.ResourcesDir != "" && utils.DirectoryExists(p.ResourcesDir) {
		resources := fmt.Sprintf("(r'%s', 'resources')", filepath.ToSlash(p.ResourcesDir))
		out = strings.ReplaceAll(out, "{{RESOURCES}}", resources)
	} else {
		out = strings.ReplaceAll(out, "{{RESOURCES}}", "")
	}

	if len(p.Binaries) > 0 {
		var b strings.Builder
		b.WriteString("    binaries=[\n")
		for _, bin := range p.Binaries {
			fmt.Fprintf(&b, "        (r'%s', r'%s'),\n", filepath.ToSlash(bin.Source), bin.Dest)
		}
		b.WriteString("    ],")
		out = strings.Replace(out, binariesMarker, b.String(), 1)
	}

	if len(p.Hooks) > 0 {
		var b strings.Builder
		b.WriteString("    runtime_hooks=[\n")
		for _, hook := range p.Hooks {
			if !utils.FileExists(hook) {
				continue
			}
			fmt.Fprintf(&b, "        r'%s',\n", filepath.ToSlash(hook))
		}
		b.WriteString("    ],")
		out = strings.Replace(out, hooksMarker, b.String(), 1)
	}

	if len(p.HiddenImports) > 0 {
		var b strings.Builder
		b.WriteString("    hiddenimports=[\n")
		for _, imp := range p.HiddenImports {
			fmt.Fprintf(&b, "        '%s',\n", imp)
		}
		b.WriteString("    ],")
		out = strings.Replace(out, hiddenImportsMarker, b.String(), 1)
	}

	return out
}

func pyBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
