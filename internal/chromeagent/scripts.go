package chromeagent

import "fmt"

// snapshotScript collects the targetable elements of the page in
// document order. Each element gets a stable CSS selector: the id when
// one exists, otherwise a nth-of-type path from the root.
func snapshotScript(maxNodes int) string {
	return fmt.Sprintf(snapshotJS, maxNodes)
}

const snapshotJS = `(() => {
	const MAX = %d;

	const cssPath = (el) => {
		if (el.id) return '#' + CSS.escape(el.id);
		const parts = [];
		let node = el;
		while (node && node.nodeType === Node.ELEMENT_NODE && node !== document.documentElement) {
			const tag = node.tagName.toLowerCase();
			let nth = 1;
			let sib = node;
			while ((sib = sib.previousElementSibling)) {
				if (sib.tagName === node.tagName) nth++;
			}
			parts.unshift(tag + ':nth-of-type(' + nth + ')');
			node = node.parentElement;
			if (node && node.id) {
				parts.unshift('#' + CSS.escape(node.id));
				node = null;
			}
		}
		return parts.join(' > ');
	};

	const roleOf = (el) => {
		const explicit = el.getAttribute('role');
		if (explicit) return explicit;
		const tag = el.tagName.toLowerCase();
		switch (tag) {
		case 'a': return el.hasAttribute('href') ? 'link' : 'generic';
		case 'button': return 'button';
		case 'select': return 'combobox';
		case 'textarea': return 'textbox';
		case 'input': {
			const type = (el.getAttribute('type') || 'text').toLowerCase();
			if (type === 'checkbox') return 'checkbox';
			if (type === 'radio') return 'radio';
			if (type === 'submit' || type === 'button' || type === 'reset') return 'button';
			if (type === 'range') return 'slider';
			return 'textbox';
		}
		case 'h1': case 'h2': case 'h3': case 'h4': case 'h5': case 'h6': return 'heading';
		case 'img': return 'img';
		case 'summary': return 'button';
		default: return tag;
		}
	};

	const nameOf = (el) => {
		const aria = el.getAttribute('aria-label');
		if (aria) return aria.trim();
		const labelled = el.getAttribute('aria-labelledby');
		if (labelled) {
			const ref = document.getElementById(labelled.split(/\s+/)[0]);
			if (ref) return (ref.innerText || ref.textContent || '').trim();
		}
		if (el.tagName === 'INPUT' || el.tagName === 'TEXTAREA' || el.tagName === 'SELECT') {
			if (el.labels && el.labels.length > 0) {
				const text = (el.labels[0].innerText || '').trim();
				if (text) return text;
			}
			const placeholder = el.getAttribute('placeholder');
			if (placeholder) return placeholder.trim();
			const name = el.getAttribute('name');
			if (name) return name.trim();
			return '';
		}
		if (el.tagName === 'IMG') return (el.getAttribute('alt') || '').trim();
		const text = (el.innerText || el.textContent || '').trim();
		return text.length > 120 ? text.slice(0, 117) + '...' : text;
	};

	const suffixOf = (el) => {
		if (el.tagName === 'A' && el.hasAttribute('href')) {
			const href = el.getAttribute('href');
			if (href && href !== '#') return '-> ' + href;
		}
		if ((el.tagName === 'INPUT') && (el.type === 'checkbox' || el.type === 'radio')) {
			return el.checked ? '[checked]' : '[unchecked]';
		}
		if (el.disabled) return '[disabled]';
		return '';
	};

	const visible = (el) => {
		const style = getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden') return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 || rect.height > 0;
	};

	const selector = 'a[href], button, input, select, textarea, summary, ' +
		'[role="button"], [role="link"], [role="checkbox"], [role="radio"], ' +
		'[role="tab"], [role="menuitem"], [role="combobox"], [role="textbox"], ' +
		'[role="switch"], [onclick], [contenteditable="true"], h1, h2, h3, h4, h5, h6';

	const out = [];
	for (const el of document.querySelectorAll(selector)) {
		if (!visible(el)) continue;
		out.push({
			role: roleOf(el),
			name: nameOf(el),
			selector: cssPath(el),
			suffix: suffixOf(el),
		});
		if (out.length >= MAX) break;
	}
	return out;
})()`

func fillScript(selector string, nth int, value string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelectorAll(%q)[%d];
	if (!el) return false;
	el.scrollIntoView({block: 'center'});
	el.focus();
	if (el.isContentEditable) {
		el.textContent = %q;
	} else {
		const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype :
			el.tagName === 'SELECT' ? HTMLSelectElement.prototype : HTMLInputElement.prototype;
		const desc = Object.getOwnPropertyDescriptor(proto, 'value');
		if (desc && desc.set) { desc.set.call(el, %q); } else { el.value = %q; }
	}
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
})()`, selector, nth, value, value, value)
}

func focusScript(selector string, nth int) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelectorAll(%q)[%d];
	if (!el) return false;
	el.scrollIntoView({block: 'center'});
	el.focus();
	return true;
})()`, selector, nth)
}

func hoverScript(selector string, nth int) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelectorAll(%q)[%d];
	if (!el) return false;
	el.scrollIntoView({block: 'center'});
	for (const type of ['mouseover', 'mouseenter', 'mousemove']) {
		el.dispatchEvent(new MouseEvent(type, {bubbles: type !== 'mouseenter', cancelable: true, view: window}));
	}
	return true;
})()`, selector, nth)
}
