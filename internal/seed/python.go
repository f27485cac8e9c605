package seed

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"text/template"
)

var seedScript = template.Must(template.New("seed").Parse(`import base64, json, sqlite3

DB_PATH = {{ .DBPath }}
DATASET = json.loads(base64.b64decode({{ .Payload }}).decode("utf-8"))


def table_exists(cur, name):
    cur.execute("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", (name,))
    return cur.fetchone()[0] > 0


conn = sqlite3.connect(DB_PATH, timeout=5)
cur = conn.cursor()
result = {"dataset": DATASET["name"], "updated": 0, "skipped": [], "inserted": {}, "counts": {}}

for st in DATASET.get("statements") or []:
    if st.get("table") and not table_exists(cur, st["table"]):
        result["skipped"].append(st["sql"])
        continue
    cur.execute(st["sql"], st.get("args") or [])
    result["updated"] += max(cur.rowcount, 0)

for t in DATASET.get("tables") or []:
    rows = t.get("rows") or []
    if not rows:
        continue
    marks = ",".join("?" * len(t["columns"]))
    sql = "INSERT OR IGNORE INTO %s (%s) VALUES (%s)" % (t["table"], ", ".join(t["columns"]), marks)
    n = 0
    for row in rows:
        cur.execute(sql, row)
        n += max(cur.rowcount, 0)
    result["inserted"][t["table"]] = n

for name in DATASET.get("countTables") or []:
    if table_exists(cur, name):
        cur.execute("SELECT COUNT(*) FROM [%s]" % name)
        result["counts"][name] = cur.fetchone()[0]
    else:
        result["counts"][name] = -1

conn.commit()
conn.close()
print({{ .Tag }} + json.dumps(result))
`))

var auditScript = template.Must(template.New("audit").Parse(`import json, sqlite3

conn = sqlite3.connect({{ .DBPath }}, timeout=5)
cur = conn.cursor()
report = {"tables": [], "emptyTables": [], "indexes": [], "good": [], "gaps": []}

report["integrity"] = cur.execute("PRAGMA integrity_check").fetchone()[0]
report["fkViolations"] = len(cur.execute("PRAGMA foreign_key_check").fetchall())
report["journalMode"] = cur.execute("PRAGMA journal_mode").fetchone()[0]
report["foreignKeysOn"] = cur.execute("PRAGMA foreign_keys").fetchone()[0] == 1

names = [r[0] for r in cur.execute("SELECT name FROM sqlite_master WHERE type='table' ORDER BY name").fetchall()]
for name in names:
    if name.startswith("sqlite_") or name.startswith("knex_"):
        continue
    n = cur.execute("SELECT COUNT(*) FROM [%s]" % name).fetchone()[0]
    report["tables"].append({"name": name, "rows": n})
    if n == 0:
        report["emptyTables"].append(name)

for name, table in cur.execute("SELECT name, tbl_name FROM sqlite_master WHERE type='index' AND name NOT LIKE 'sqlite_%' ORDER BY name").fetchall():
    report["indexes"].append({"name": name, "table": table})

conn.close()
print({{ .Tag }} + json.dumps(report))
`))

type scriptData struct {
	DBPath  string
	Payload string
	Tag     string
}

// pyString quotes s as a Python string literal. JSON string syntax is a
// subset of Python's.
func pyString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// RenderPython returns a self-contained Python 3 script that applies ds to
// the SQLite database at dbPath and prints a ResultTag line. The dataset is
// embedded as base64 JSON so the script survives any terminal quoting.
func RenderPython(ds Dataset, dbPath string) (string, error) {
	raw, err := json.Marshal(ds)
	if err != nil {
		return "", fmt.Errorf("encode dataset %s: %w", ds.Name, err)
	}
	var buf bytes.Buffer
	err = seedScript.Execute(&buf, scriptData{
		DBPath:  pyString(dbPath),
		Payload: pyString(base64.StdEncoding.EncodeToString(raw)),
		Tag:     pyString(ResultTag),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderAuditPython returns a Python 3 script that audits the database at
// dbPath and prints an AuditTag line. Good and Gaps are filled in by ParseAudit.
func RenderAuditPython(dbPath string) (string, error) {
	var buf bytes.Buffer
	err := auditScript.Execute(&buf, scriptData{
		DBPath: pyString(dbPath),
		Tag:    pyString(AuditTag),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
