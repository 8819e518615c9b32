package cdp

import (
	"kioskguard/pkg/dom"

	cdpdom "github.com/mafredri/cdp/protocol/dom"
)

const (
	nodeTypeElement  = 1
	nodeTypeDocument = 9
)

// ToMirrorTree 将 CDP 文档节点转换为只含元素节点的镜像树。
// 子元素顺序与页面中 el.children 一致，桥接脚本上报的路径据此解析。
func ToMirrorTree(root *cdpdom.Node) *dom.Tree {
	tree := dom.NewTree()
	if root == nil {
		return tree
	}
	if root.DocumentURL != nil {
		tree.URL = *root.DocumentURL
	}

	html := root
	if root.NodeType == nodeTypeDocument {
		html = firstElement(root.Children)
	}
	if html == nil {
		return tree
	}

	mirror := tree.Root()
	mirror.Ref = int64(html.NodeID)
	for k, v := range attributeMap(html.Attributes) {
		mirror.SetAttr(k, v)
	}
	appendChildren(tree, mirror, html.Children)
	return tree
}

func appendChildren(tree *dom.Tree, parent *dom.Node, children []cdpdom.Node) {
	for i := range children {
		c := &children[i]
		if c.NodeType != nodeTypeElement {
			continue
		}
		n := tree.CreateElement(c.LocalName, attributeMap(c.Attributes))
		n.Ref = int64(c.NodeID)
		parent.Append(n)
		appendChildren(tree, n, c.Children)
	}
}

func firstElement(nodes []cdpdom.Node) *cdpdom.Node {
	for i := range nodes {
		if nodes[i].NodeType == nodeTypeElement {
			return &nodes[i]
		}
	}
	return nil
}

// attributeMap CDP 以 [name1, value1, name2, value2...] 形式返回属性
func attributeMap(attrs []string) map[string]string {
	out := make(map[string]string, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		out[attrs[i]] = attrs[i+1]
	}
	return out
}
