package httpapi

import _ "embed"

//go:embed templates/xblock.tmpl
var xblockTemplateHTML string

//go:embed templates/xblock_student.tmpl
var xblockStudentTemplateHTML string

//go:embed templates/xblock_studio.tmpl
var xblockStudioTemplateHTML string

//go:embed templates/instructor_dashboards.tmpl
var instructorDashboardsTemplateHTML string

//go:embed assets/embed_dashboard.js
var embedDashboardJavaScriptSource []byte

//go:embed assets/superset.js
var xblockJavaScriptSource []byte

//go:embed assets/superset_edit.js
var xblockEditJavaScriptSource []byte

//go:embed assets/superset.css
var xblockStylesheetSource []byte
