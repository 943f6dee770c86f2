package bundle

import (
	"bytes"
	"text/template"
)

type templateData struct {
	Name         string
	RootPath     string
	BackendURL   string
	FrontendURL  string
	BackendPort  int
	FrontendPort int
	HasFrontend  bool
	Archetype    string
}

var indexTemplate = template.Must(template.New("index.html").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Generated Application</title>
    <script src="https://unpkg.com/react@18/umd/react.development.js"></script>
    <script src="https://unpkg.com/react-dom@18/umd/react-dom.development.js"></script>
    <script src="https://unpkg.com/@babel/standalone/babel.min.js"></script>
    <script src="https://cdn.tailwindcss.com"></script>
    <script src="https://unpkg.com/axios/dist/axios.min.js"></script>
    <script src="config.js"></script>
</head>
<body class="bg-gray-100 min-h-screen">
    <div id="root" class="container mx-auto p-4"></div>
    <script type="text/babel" src="App.jsx"></script>
    <script type="text/babel">
        ReactDOM.createRoot(document.getElementById('root')).render(<App />);
    </script>
</body>
</html>
`))

var placeholderTemplate = template.Must(template.New("placeholder.html").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Name}}</title>
    <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-100 min-h-screen flex items-center justify-center">
    <div class="bg-white shadow rounded p-8 max-w-lg">
        <h1 class="text-2xl font-bold mb-4">{{.Name}}</h1>
        <p class="mb-2">This project was generated without a user interface.</p>
        <p>The API is served at <a class="text-blue-600 underline" href="{{.BackendURL}}/docs">{{.BackendURL}}</a>.</p>
    </div>
</body>
</html>
`))

var configJSTemplate = template.Must(template.New("config.js").Parse(`// Configuration for API endpoints
const API_BASE_URL = '{{.BackendURL}}';
window.API_BASE_URL = API_BASE_URL;

async function apiCall(endpoint, method = 'GET', data = null) {
  const options = {
    method,
    headers: { 'Content-Type': 'application/json' },
  };

  if (data) {
    options.body = JSON.stringify(data);
  }

  const response = await fetch(` + "`${API_BASE_URL}${endpoint}`" + `, options);
  if (!response.ok) {
    throw new Error(` + "`API call failed: ${response.statusText}`" + `);
  }
  return await response.json();
}
window.apiCall = apiCall;
`))

var readmeTemplate = template.Must(template.New("README.md").Parse(`# {{.Name}}

Generated {{.Archetype}} application.

## Structure
- ` + "`backend/`" + `: Python backend (FastAPI)
- ` + "`frontend/`" + `: {{if .HasFrontend}}React frontend served as static files{{else}}placeholder page (no UI was generated){{end}}

## Setup Instructions

### Backend
1. Navigate to the backend directory:
   ` + "```" + `
   cd {{.RootPath}}/backend
   ` + "```" + `
2. Install the required packages:
   ` + "```" + `
   pip install -r requirements.txt
   ` + "```" + `
3. Run the backend server:
   ` + "```" + `
   uvicorn app:app --reload --host 0.0.0.0 --port {{.BackendPort}}
   ` + "```" + `

### Frontend
1. Navigate to the frontend directory:
   ` + "```" + `
   cd {{.RootPath}}/frontend
   ` + "```" + `
2. Start a simple HTTP server to serve the frontend:
   ` + "```" + `
   python -m http.server {{.FrontendPort}}
   ` + "```" + `

## Accessing the Application
- Backend API: {{.BackendURL}}
- Frontend UI: {{.FrontendURL}}
`))

func render(t *template.Template, data templateData) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
