package trace

import (
	"strconv"
	"strings"
)

// scriptTemplate imports the target, optionally calls its entry function, and
// dumps every loaded module with a file plus the interpreter layout as JSON.
// A failing entry function still yields the modules it loaded. A failing
// import is recorded in "target_error": the interpreter drops a module whose
// import raised, so its dependencies cannot be trusted.
const scriptTemplate = `import sys

target_error = None
try:
    {{IMPORT}}
except BaseException as exc:
    target_error = "%s: %s" % (type(exc).__name__, exc)
else:
    try:
        {{CALL}}
    except BaseException:
        pass

import json
import os
import site
import sysconfig

records = []
for name, mod in list(sys.modules.items()):
    if name == "__main__" or isinstance(mod, type):
        continue
    if name in sys.builtin_module_names:
        continue
    path = getattr(mod, "__file__", None)
    if path is None:
        continue
    records.append([name, os.path.abspath(path)])

try:
    site_packages = list(site.getsitepackages())
except AttributeError:
    site_packages = []

result = {
    "version": "python%d%d" % sys.version_info[:2],
    "prefix": sys.base_prefix,
    "stdlib_root": os.path.dirname(os.__file__),
    "site_packages": sysconfig.get_paths()["purelib"],
    "third_party_roots": site_packages,
    "app_root": os.getcwd(),
    "modules": sorted(records),
    "target_error": target_error,
}

with open({{OUT}}, "w") as f:
    json.dump(result, f)
`

// Script returns the bootstrap source that traces importName. When
// entryFunction is set it is called after the import.
func Script(importName, entryFunction, outPath string) string {
	call := "pass"
	if entryFunction != "" {
		call = importName + "." + entryFunction + "()"
	}
	return strings.NewReplacer(
		"{{IMPORT}}", "import "+importName,
		"{{CALL}}", call,
		"{{OUT}}", strconv.Quote(outPath),
	).Replace(scriptTemplate)
}
