package dom

import "fmt"

// BuildParams configure one evaluation of the tree-builder script.
type BuildParams struct {
	DoHighlightElements bool
	FocusHighlightIndex int // -1 to highlight all interactive elements
	ViewportExpansion   int // extra pixels beyond the viewport treated as visible
}

// BuildTreeExpression returns the JavaScript expression evaluated in the
// page to extract the interactive-element tree. The expression yields
// { tree, pixelsAbove, pixelsBelow }.
//
// Index assignment is pre-order within the main frame followed by each
// same-origin iframe subtree, so indices are stable for one snapshot.
func BuildTreeExpression(p BuildParams) string {
	return fmt.Sprintf(buildTreeScript, boolJS(p.DoHighlightElements), p.FocusHighlightIndex, p.ViewportExpansion)
}

func boolJS(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

const buildTreeScript = `(() => {
    const doHighlightElements = %s;
    const focusHighlightIndex = %d;
    const viewportExpansion = %d;

    const HIGHLIGHT_CONTAINER_ID = 'webpilot-highlight-container';
    const INTERACTIVE_SELECTOR = 'a, button, input, select, textarea, summary, ' +
        '[role="button"], [role="link"], [role="checkbox"], [role="radio"], ' +
        '[role="combobox"], [role="textbox"], [role="searchbox"], [role="menuitem"], ' +
        '[role="option"], [role="tab"], [role="switch"], [role="slider"], ' +
        '[tabindex]:not([tabindex="-1"]), [contenteditable="true"], [onclick]';

    // Remove any highlight overlays from a previous snapshot.
    const oldContainer = document.getElementById(HIGHLIGHT_CONTAINER_ID);
    if (oldContainer) oldContainer.remove();

    let highlightContainer = null;
    if (doHighlightElements) {
        highlightContainer = document.createElement('div');
        highlightContainer.id = HIGHLIGHT_CONTAINER_ID;
        highlightContainer.style.cssText =
            'position:fixed;top:0;left:0;width:0;height:0;z-index:2147483646;pointer-events:none;';
        document.body.appendChild(highlightContainer);
    }

    const colors = ['#FF5D5D', '#3B82F6', '#10B981', '#F59E0B', '#8B5CF6', '#EC4899'];

    function isVisible(el) {
        const rect = el.getBoundingClientRect();
        if (rect.width <= 0 || rect.height <= 0) return false;
        if (rect.bottom < -viewportExpansion || rect.top > window.innerHeight + viewportExpansion) return false;
        const style = getComputedStyle(el);
        return style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
    }

    function isInteractive(el) {
        if (el.matches && el.matches(INTERACTIVE_SELECTOR)) return true;
        const style = getComputedStyle(el);
        return style.cursor === 'pointer' && el.childElementCount === 0;
    }

    function drawHighlight(el, index) {
        if (!highlightContainer) return;
        if (focusHighlightIndex >= 0 && focusHighlightIndex !== index) return;
        const rect = el.getBoundingClientRect();
        const color = colors[index %% colors.length];
        const overlay = document.createElement('div');
        overlay.style.cssText =
            'position:fixed;pointer-events:none;box-sizing:border-box;' +
            'border:2px solid ' + color + ';' +
            'left:' + rect.left + 'px;top:' + rect.top + 'px;' +
            'width:' + rect.width + 'px;height:' + rect.height + 'px;';
        const label = document.createElement('span');
        label.textContent = String(index);
        label.style.cssText =
            'position:absolute;top:-18px;left:0;background:' + color + ';' +
            'color:#fff;font:11px monospace;padding:0 3px;border-radius:2px;';
        overlay.appendChild(label);
        highlightContainer.appendChild(overlay);
    }

    const KEEP_ATTRS = ['title', 'type', 'name', 'role', 'value', 'placeholder',
        'aria-label', 'aria-expanded', 'href', 'alt', 'for'];

    function attributesOf(el) {
        const out = {};
        for (const name of KEEP_ATTRS) {
            const v = el.getAttribute(name);
            if (v !== null && v !== '') out[name] = v.slice(0, 200);
        }
        return out;
    }

    function xpathOf(el) {
        const parts = [];
        for (let node = el; node && node.nodeType === Node.ELEMENT_NODE; node = node.parentNode) {
            let index = 1;
            for (let sib = node.previousElementSibling; sib; sib = sib.previousElementSibling) {
                if (sib.tagName === node.tagName) index++;
            }
            parts.unshift(node.tagName.toLowerCase() + '[' + index + ']');
        }
        return '/' + parts.join('/');
    }

    let nextIndex = 0;

    function buildNode(node, frameUrl) {
        if (node.nodeType === Node.TEXT_NODE) {
            const text = node.textContent.trim();
            if (!text) return null;
            const parentVisible = node.parentElement ? isVisible(node.parentElement) : false;
            return { text: text.slice(0, 500), isVisible: parentVisible };
        }
        if (node.nodeType !== Node.ELEMENT_NODE) return null;

        const el = node;
        const tag = el.tagName.toLowerCase();
        if (tag === 'script' || tag === 'style' || tag === 'noscript') return null;
        if (el.id === HIGHLIGHT_CONTAINER_ID) return null;

        const out = { tag: tag };
        if (frameUrl) out.frameUrl = frameUrl;
        const visible = isVisible(el);
        if (visible) out.isVisible = true;

        if (visible && isInteractive(el) && !el.disabled) {
            out.isInteractive = true;
            out.highlightIndex = nextIndex;
            out.attributes = attributesOf(el);
            out.xpath = xpathOf(el);
            el.setAttribute('data-webpilot-index', String(nextIndex));
            drawHighlight(el, nextIndex);
            nextIndex++;
        }

        const children = [];
        for (const child of el.childNodes) {
            const built = buildNode(child, frameUrl);
            if (built) children.push(built);
        }

        // Same-origin iframes contribute their subtree after the parent
        // document, keeping index assignment deterministic.
        if (tag === 'iframe') {
            try {
                const doc = el.contentDocument;
                if (doc && doc.body) {
                    const sub = buildNode(doc.body, el.src || 'about:srcdoc');
                    if (sub) children.push(sub);
                }
            } catch (e) {
                // Cross-origin frame: opaque.
            }
        }

        if (children.length > 0) out.children = children;
        if (!out.isInteractive && children.length === 0 && !out.isVisible) return null;
        return out;
    }

    // Clear stale index markers before assigning fresh ones.
    document.querySelectorAll('[data-webpilot-index]').forEach(
        el => el.removeAttribute('data-webpilot-index'));

    const tree = buildNode(document.body, '') || { tag: 'body' };
    const scrollY = window.scrollY || 0;
    const pageHeight = Math.max(document.body.scrollHeight, document.documentElement.scrollHeight);

    return {
        tree: tree,
        pixelsAbove: Math.round(scrollY),
        pixelsBelow: Math.max(0, Math.round(pageHeight - scrollY - window.innerHeight))
    };
})()`

// RemoveHighlightsScript clears overlay markers drawn by the tree builder.
const RemoveHighlightsScript = `(() => {
    const c = document.getElementById('webpilot-highlight-container');
    if (c) c.remove();
    document.querySelectorAll('[data-webpilot-index]').forEach(
        el => el.removeAttribute('data-webpilot-index'));
    return true;
})()`

// IndexSelector returns the CSS selector addressing the element tagged with
// the given highlight index in the current snapshot.
func IndexSelector(index int) string {
	return fmt.Sprintf(`[data-webpilot-index="%d"]`, index)
}
