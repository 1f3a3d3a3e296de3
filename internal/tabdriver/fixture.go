package tabdriver

// LinkExtractorFixtureHTML is a minimal page exposing window.extractLinks(),
// the hook the navigation loop's link-extraction step calls via
// Runtime.evaluate. It exists for integration tests that drive a real tab
// end to end without depending on a target site defining the hook itself.
const LinkExtractorFixtureHTML = `<!DOCTYPE html>
<html>
<head><title>tabdriver link extraction fixture</title></head>
<body>
    <a href="/a">a</a>
    <a href="/b">b</a>
    <a href="https://external.example/c">c</a>
    <script>
        window.extractLinks = function() {
            return Array.from(document.querySelectorAll('a[href]')).map(function(a) {
                return a.href;
            });
        };
    </script>
</body>
</html>`
